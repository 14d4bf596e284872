package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/small-frappuccino/tgperms/pkg/errutil"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// apiSchema documents the JSON API request and response bodies.
func apiSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		reflector := jsonschema.Reflector{
			ExpandedStruct: true,
		}
		doc := map[string]*jsonschema.Schema{
			"update":     reflector.Reflect(&UpdateRequest{}),
			"update_all": reflector.Reflect(&BulkUpdateRequest{}),
			"response":   reflector.Reflect(&Response{}),
		}
		schemaJSON, schemaErr = json.MarshalIndent(doc, "", "  ")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to marshal schema: %w", schemaErr)
		}
	})
	return schemaJSON, schemaErr
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	body, err := apiSchema()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, failure(errutil.CodeInternal, err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	_, _ = w.Write(body)
}
