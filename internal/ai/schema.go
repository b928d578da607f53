package ai

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

func reflectSchema[T any]() *jsonschema.Schema {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return r.Reflect(v)
}

var (
	groupingSchema       = sync.OnceValue(reflectSchema[groupingResponse])
	classificationSchema = sync.OnceValue(reflectSchema[classificationResponse])
	previewSchema        = sync.OnceValue(reflectSchema[previewPayload])
)

func schemaString(s *jsonschema.Schema) string {
	data, err := json.Marshal(s)
	if err != nil {
		// Reflected schemas always marshal.
		panic(err)
	}
	return string(data)
}
