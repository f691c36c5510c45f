// Package harness runs export and import scenarios as executable contract
// tests.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: product_roundtrip
//	description: "Export a product and import it into an empty store"
//	seed:
//	  - id: shop
//	    kind: product
//	    key: { name: shop }
//	  - id: tc
//	    kind: testcase
//	    key: { summary: "add to cart" }
//	    fields: { runner: shell, script: "true" }
//	    links: { product: [shop] }
//	export:
//	  root: shop
//	import:
//	  target: fresh
//	assertions:
//	  - type: export_count
//	    kind: testcase
//	    count: 1
//	  - type: import_tally
//	    kind: testcase
//	    tally: { created: 1 }
//	  - type: final_state
//	    kind: testcase
//	    where: { summary: "add to cart" }
//	    expect: { runner: shell }
//
// Seed ids are scenario handles, never store ids. Links name earlier seed
// records.
//
// # Assertion Types
//
//   - export_count: exported entities of one kind
//   - export_warning: export warnings, by substring or count
//   - import_tally: import outcome counters of one kind
//   - import_error: an import error or note containing a substring
//   - final_state: one record of the target store, matched by key, with
//     expected field values
//   - step_order: monitor steps appear in the given order
//
// # Determinism
//
// Each scenario gets fresh in-memory SQLite stores. Documents never carry
// store ids, so the exported bytes depend only on the seed and are compared
// against golden files with goldie.
package harness
