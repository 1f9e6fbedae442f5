package curriculum

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// chapterSchema describes a chapter as returned by the chapter service,
// optionally with the learner's embedded progress.
const chapterSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "title", "unitId", "chapterNumber"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "title": {"type": "string"},
    "description": {"type": "string"},
    "gradeId": {"type": "string"},
    "unitId": {"type": "string", "minLength": 1},
    "chapterNumber": {"type": "integer", "minimum": 1},
    "content": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"enum": ["video", "text", "pdf", "mixed"]},
          "title": {"type": "string"},
          "url": {"type": "string"},
          "body": {"type": "string"},
          "order": {"type": "integer"}
        }
      }
    },
    "questions": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["questionText", "options", "correctAnswer"],
        "properties": {
          "questionText": {"type": "string"},
          "options": {"type": "array", "items": {"type": "string"}},
          "correctAnswer": {"type": "string"}
        }
      }
    },
    "progress": {
      "type": ["object", "null"],
      "properties": {
        "status": {"enum": ["", "locked", "accessible", "in_progress", "completed"]},
        "startedAt": {"type": ["string", "null"]},
        "completedAt": {"type": ["string", "null"]},
        "score": {"type": ["number", "null"], "minimum": 0, "maximum": 100}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func chapterJSONSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(chapterSchema))
	})
	return schema, schemaErr
}

// CheckChapterJSON validates a raw chapter document against the chapter schema.
func CheckChapterJSON(raw []byte) error {
	s, err := chapterJSONSchema()
	if err != nil {
		return fmt.Errorf("loading chapter schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("decoding chapter document: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return fmt.Errorf("chapter document does not match schema: %s", strings.Join(msgs, "; "))
}
