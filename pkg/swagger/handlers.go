package swagger

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Routes are the documentation paths RegisterRoutes adds. They are served
// without a session, so callers add them to the exempt list.
var Routes = []string{"/openapi.yaml", "/openapi.json", "/swagger-ui", "/api-docs"}

var swaggerUI = template.Must(template.New("swagger").Parse(swaggerUITemplate))

// Handlers serves the OpenAPI document and Swagger UI
type Handlers struct {
	spec []byte

	once    sync.Once
	specErr error
	json    []byte
}

// NewHandlers serves the embedded gatehouse document.
func NewHandlers() *Handlers {
	return &Handlers{spec: openapiSpec}
}

// RegisterRoutes registers the documentation routes with the router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/openapi.yaml", h.serveYAML).Methods("GET")
	router.HandleFunc("/openapi.json", h.serveJSON).Methods("GET")
	router.HandleFunc("/swagger-ui", h.serveUI).Methods("GET")
	router.HandleFunc("/api-docs", h.serveUI).Methods("GET")
}

func (h *Handlers) serveYAML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-yaml")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	w.Write(h.spec)
}

func (h *Handlers) serveJSON(w http.ResponseWriter, r *http.Request) {
	data, err := h.specJSON()
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handlers) serveUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := swaggerUI.Execute(w, nil); err != nil {
		httputil.WriteInternalError(w)
	}
}

// specJSON converts the YAML document once.
func (h *Handlers) specJSON() ([]byte, error) {
	h.once.Do(func() {
		h.json, h.specErr = yamlToJSON(h.spec)
	})
	return h.json, h.specErr
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse openapi document: %w", err)
	}
	doc, err := jsonCompatible(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// jsonCompatible rewrites map keys as strings. Response codes like '200'
// are quoted in the document, but unquoted keys decode as ints.
func jsonCompatible(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			converted, err := jsonCompatible(item)
			if err != nil {
				return nil, err
			}
			val[k] = converted
		}
		return val, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			converted, err := jsonCompatible(item)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = converted
		}
		return out, nil
	case []interface{}:
		for i, item := range val {
			converted, err := jsonCompatible(item)
			if err != nil {
				return nil, err
			}
			val[i] = converted
		}
		return val, nil
	default:
		return v, nil
	}
}

const swaggerUITemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Gatehouse API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui.css" />
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; padding: 0; }
  </style>
</head>
<body>
<div id="swagger-ui"></div>

<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui-bundle.js" charset="UTF-8"></script>
<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui-standalone-preset.js" charset="UTF-8"></script>
<script>
window.onload = function() {
  window.ui = SwaggerUIBundle({
    url: "/openapi.json",
    dom_id: '#swagger-ui',
    deepLinking: true,
    presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
    layout: "StandaloneLayout",
    requestInterceptor: function(request) {
      const token = localStorage.getItem('gatehouse_session');
      if (token) {
        request.headers['Authorization'] = 'Bearer ' + token;
      }
      return request;
    }
  });
};
</script>
</body>
</html>`
