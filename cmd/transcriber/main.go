package main

import (
	"kotoba-transcriber/cmd/transcriber/cmd"

	// Import backends to register them
	_ "kotoba-transcriber/internal/app/api/openai/whisper"
	_ "kotoba-transcriber/internal/app/api/whisper_cpp"
	_ "kotoba-transcriber/internal/app/api/whisper_server"
	_ "kotoba-transcriber/internal/app/api/worker"
)

func main() {
	cmd.Execute()
}
