// Package policy gates recipe runs with Open Policy Agent rules written in
// Rego.
//
// The Gate evaluates the schema-expanded recipe before any module resolves.
// Error-severity denials abort the run; warnings are logged and recorded on
// the run report. Three policies ship built in: a worker-pool thread
// ceiling, working-region sanity checks, and an HTTPS-only advisory for
// plain-HTTP sources.
//
// Custom policies load from .rego files (one policy per file, described by
// its leading comment block) or JSON policy documents:
//
//	gate, _ := policy.NewGate(logger)
//	_ = gate.LoadPolicies(ctx, []string{"/etc/fetchez/policies"})
//
// A deny rule receives the recipe under input.recipe:
//
//	package custom.policies.agency
//
//	import rego.v1
//
//	deny contains violation if {
//	    some mod in input.recipe.modules
//	    mod.module == "sftp"
//	    not mod.args.known_hosts
//
//	    violation := {
//	        "message": "sftp modules must pin a known_hosts file",
//	        "severity": "error",
//	        "module": mod.module,
//	    }
//	}
//
// The Loader supports hot reload: watched .rego and .json files recompile
// on change with a short debounce.
package policy
