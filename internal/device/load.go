package device

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/device.json
var descriptorSchemaJSON string

const descriptorSchemaURL = "device.json"

var requiredFields = []string{"id", "type", "status_topic", "cmd_topic"}

// LoadResult is the outcome of loading a device list. Skipped holds one
// error per rejected entry; the accepted descriptors are in declaration order.
type LoadResult struct {
	Descriptors []Descriptor
	Skipped     []error
}

// validator checks raw entries against the embedded descriptor schema.
type validator struct {
	schema *jsonschema.Schema
}

func newValidator() (*validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(descriptorSchemaURL, strings.NewReader(descriptorSchemaJSON)); err != nil {
		return nil, fmt.Errorf("adding descriptor schema: %w", err)
	}
	schema, err := compiler.Compile(descriptorSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling descriptor schema: %w", err)
	}
	return &validator{schema: schema}, nil
}

// Load normalises and validates a raw device list.
//
// Entries are handled independently: one missing a required field, failing
// the schema, or colliding with an earlier entry's address is skipped with a
// diagnostic and the rest still load. Addresses in reserved, such as the
// controller's, count as taken. Load has no side effects.
func Load(raw []map[string]any, reserved ...string) LoadResult {
	v, err := sharedValidator()
	if err != nil {
		return LoadResult{Skipped: []error{fmt.Errorf("%w: %w", ErrConfig, err)}}
	}
	return v.load(raw, reserved)
}

// sharedValidator compiles the embedded schema once.
var sharedValidator = sync.OnceValues(newValidator)

func (v *validator) load(raw []map[string]any, reserved []string) LoadResult {
	var result LoadResult
	seen := make(map[string]string, len(raw)+len(reserved))
	for _, addr := range reserved {
		if addr != "" {
			seen[addr] = "the gateway controller"
		}
	}

	for i, entry := range raw {
		desc, err := v.decode(entry)
		if err != nil {
			result.Skipped = append(result.Skipped, fmt.Errorf("device #%d (%s): %w", i, entryID(entry), err))
			continue
		}

		addr := desc.Address()
		if owner, dup := seen[addr]; dup {
			result.Skipped = append(result.Skipped, fmt.Errorf(
				"device #%d (%s): %w: address %q already used by %q",
				i, desc.ID, ErrAddressCollision, addr, owner))
			continue
		}
		seen[addr] = desc.ID
		result.Descriptors = append(result.Descriptors, desc)
	}

	return result
}

// decode validates one entry and fills in defaults.
func (v *validator) decode(entry map[string]any) (Descriptor, error) {
	for _, field := range requiredFields {
		if isBlank(entry[field]) {
			return Descriptor{}, fmt.Errorf("%w: %s", ErrMissingField, field)
		}
	}

	// Round trip through JSON so YAML-decoded values (ints, nested maps)
	// have the shapes the schema validator expects.
	data, err := json.Marshal(entry)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}

	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}

	if desc.Name == "" {
		desc.Name = desc.ID
	}
	if desc.SensorID == "" {
		desc.SensorID = SingleSensor
	}
	if desc.Address() == "" {
		return Descriptor{}, fmt.Errorf("%w: id %q yields an empty address", ErrInvalidDescriptor, desc.ID)
	}

	return desc, nil
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	default:
		return false
	}
}

func entryID(entry map[string]any) string {
	if id, ok := entry["id"].(string); ok && id != "" {
		return id
	}
	return "no id"
}

// ParseFile reads a YAML or JSON document with a top-level "devices" list.
// Any failure is reported as ErrConfig.
func ParseFile(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrConfig, path, err)
	}

	var doc struct {
		Devices *[]map[string]any `yaml:"devices"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrConfig, path, err)
	}
	if doc.Devices == nil {
		return nil, fmt.Errorf("%w: %s has no devices list", ErrConfig, path)
	}
	return *doc.Devices, nil
}

// ParseInline reads the inline devices.list value: a JSON array of objects.
func ParseInline(text string) ([]map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty device list", ErrConfig)
	}
	var raw []map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing device list: %w", ErrConfig, err)
	}
	return raw, nil
}
