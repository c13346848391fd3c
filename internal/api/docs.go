package api

import (
	"bytes"
	"html/template"
)

const (
	messagesPath = "/api/v1/messages"
	eventsPath   = "/api/v1/events"
	wsPath       = "/api/v1/ws"
)

// surface is an endpoint the OpenAPI document cannot describe.
type surface struct {
	Method string
	Path   string
	Usage  string
}

var surfaces = []surface{
	{"GET", wsPath, "message channel: one JSON {id, type, data} request per frame, replies echo id"},
	{"GET", eventsPath, "server-sent events; filter with ?feed=badge,capture and ?tab=12&tab=13"},
	{"POST", messagesPath, "one message-channel request over plain HTTP; ?tab= names the sender"},
}

var docsTemplate = template.Must(template.New("docs").Parse(`<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>{{.Title}}</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    #surfaces { font: 13px monospace; padding: 8px 16px; background: #1b1f24; color: #d0d7de; }
    #surfaces a { color: #58a6ff; }
  </style>
</head>
<body style="height: 100vh; margin: 0; display: flex; flex-direction: column;">
  <ul id="surfaces">
  {{- range .Surfaces}}
    <li>{{.Method}} <a href="{{.Path}}">{{.Path}}</a>: {{.Usage}}</li>
  {{- end}}
    <li>GET <a href="/health">/health</a>: tracked tabs, event clients, dropped events</li>
  </ul>
  <elements-api
    style="flex: 1; min-height: 0;"
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`))

// renderDocs builds the docs page served at /docs.
func renderDocs(title string) []byte {
	var buf bytes.Buffer
	err := docsTemplate.Execute(&buf, struct {
		Title    string
		Surfaces []surface
	}{title, surfaces})
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}
