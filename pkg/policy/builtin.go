package policy

import "time"

// GetBuiltinPolicies returns the policies every gate starts with.
func GetBuiltinPolicies() []Policy {
	now := time.Now()
	return []Policy{
		{
			Name:        "thread-ceiling",
			Description: "Caps the worker pool size so one recipe cannot hammer upstream agencies",
			Severity:    SeverityError,
			Enabled:     true,
			CreatedAt:   now,
			UpdatedAt:   now,
			Rego: `# Caps the worker pool size so one recipe cannot hammer upstream agencies.
package fetchez.policies.threads

import rego.v1

max_threads := 64

deny contains violation if {
	input.recipe.execution.threads > max_threads

	violation := {
		"message": sprintf("execution.threads %d exceeds the ceiling of %d", [input.recipe.execution.threads, max_threads]),
		"severity": "error",
	}
}
`,
		},
		{
			Name:        "region-sanity",
			Description: "Rejects inverted or out-of-range working regions before any module resolves",
			Severity:    SeverityError,
			Enabled:     true,
			CreatedAt:   now,
			UpdatedAt:   now,
			Rego: `# Rejects inverted or out-of-range working regions before any module resolves.
package fetchez.policies.region

import rego.v1

deny contains violation if {
	input.recipe.region.west >= input.recipe.region.east

	violation := {
		"message": sprintf("region west %v is not west of east %v", [input.recipe.region.west, input.recipe.region.east]),
		"severity": "error",
	}
}

deny contains violation if {
	input.recipe.region.south >= input.recipe.region.north

	violation := {
		"message": sprintf("region south %v is not south of north %v", [input.recipe.region.south, input.recipe.region.north]),
		"severity": "error",
	}
}

deny contains violation if {
	input.recipe.region.south < -90

	violation := {
		"message": "region extends below -90 degrees latitude",
		"severity": "error",
	}
}

deny contains violation if {
	input.recipe.region.north > 90

	violation := {
		"message": "region extends above 90 degrees latitude",
		"severity": "error",
	}
}
`,
		},
		{
			Name:        "https-only",
			Description: "Flags recipes that retrieve over plain HTTP",
			Severity:    SeverityWarning,
			Enabled:     true,
			CreatedAt:   now,
			UpdatedAt:   now,
			Rego: `# Flags recipes that retrieve over plain HTTP.
package fetchez.policies.https

import rego.v1

deny contains violation if {
	some mod in input.recipe.modules
	some url in mod.args.urls
	is_string(url)
	startswith(url, "http://")

	violation := {
		"message": sprintf("module %s retrieves %s over plain HTTP", [mod.module, url]),
		"severity": "warning",
		"module": mod.module,
	}
}

deny contains violation if {
	some mod in input.recipe.modules
	some entry in mod.args.urls
	is_object(entry)
	startswith(entry.url, "http://")

	violation := {
		"message": sprintf("module %s retrieves %s over plain HTTP", [mod.module, entry.url]),
		"severity": "warning",
		"module": mod.module,
	}
}
`,
		},
	}
}
