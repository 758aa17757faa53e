// Package testutil provides shared test doubles and fixtures for the transcriber.
//
// It contains two components:
//
// 1. Mock pipelines (mock_pipeline.go):
//   - MockPipeline: testify mock of provider.Pipeline that also tracks
//     how many runs overlap, for checking that inference is serialized
//   - MockLoader: session.Loader double with scripted failures and load delay
//
// 2. Fixtures (fixtures.go):
//   - Sample pipeline outputs, including chunks with an open end timestamp
//   - Helpers for creating media files and multipart upload bodies
//
// # Usage
//
//	pipe := testutil.NewMockPipeline()
//	pipe.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(testutil.SampleOutput(), nil)
//	loader := testutil.NewMockLoader(pipe)
//	sess := session.New(loader, session.WithDevice("cpu"))
package testutil
