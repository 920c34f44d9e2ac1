package cfg

import (
	"bytes"
	_ "embed"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/deploy_config.json
var deployConfigSchema []byte

var compiledDeploySchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("deploy_config.json", bytes.NewReader(deployConfigSchema)); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("deploy_config.json")
	if err != nil {
		panic(err)
	}
	compiledDeploySchema = schema
}

// validateDeployConfig checks a raw config map against the deploy
// config schema. The map is round-tripped through JSON so the schema
// library sees canonical JSON values regardless of the YAML decoder's
// number types.
func validateDeployConfig(raw map[string]any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return err
	}
	return compiledDeploySchema.Validate(instance)
}
