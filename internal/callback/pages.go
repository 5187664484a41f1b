package callback

import (
	"html/template"
	"log/slog"
	"net/http"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>body{font-family:sans-serif;margin:4em auto;max-width:32em;color:#333}h1{font-size:1.4em}</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Detail}}</p>
</body>
</html>
`))

type page struct {
	Title  string
	Detail string
}

// RenderSuccess tells the user the browser window can be closed.
func RenderSuccess(w http.ResponseWriter) {
	render(w, http.StatusOK, page{
		Title:  "Authentication successful",
		Detail: "You can close this window and return to the terminal.",
	})
}

// RenderError shows a failure page with the given status code.
func RenderError(w http.ResponseWriter, status int, title, detail string) {
	render(w, status, page{Title: title, Detail: detail})
}

func render(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, p); err != nil {
		slog.Error("failed to render callback page", "error", err)
	}
}
