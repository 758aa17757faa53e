package handlers

var uploadForm = []byte(`<!doctype html>
<html lang="ja">
<head>
<meta charset="utf-8">
<title>transcribe</title>
</head>
<body>
<h1>Transcribe media</h1>
<form action="/transcribe" method="post" enctype="multipart/form-data">
  <p><input type="file" name="media" accept="audio/*,video/*" required></p>
  <p><label>lang <input type="text" name="lang" value="ja" size="4"></label></p>
  <p><button type="submit">Transcribe</button></p>
</form>
</body>
</html>
`)
