package openapi

import (
	"bytes"
	"html/template"
)

var uiTemplate = template.Must(template.New("ui").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>{{.Title}} API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
  <script>
    window.onload = () => {
      window.ui = SwaggerUIBundle({ url: {{.URL}}, dom_id: '#swagger-ui' });
    };
  </script>
</body>
</html>
`))

// UI returns the Swagger UI page for the document at url
func UI(title, url string) ([]byte, error) {
	var buf bytes.Buffer
	err := uiTemplate.Execute(&buf, struct {
		Title string
		URL   string
	}{title, url})
	return buf.Bytes(), err
}
