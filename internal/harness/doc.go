// Package harness runs query conformance scenarios against an in-memory
// SQLite database.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	mapping: path/to/mapping.cue   # optional; the fixture mapping otherwise
//	schema:                        # optional; the fixture schema and seed otherwise
//	  - CREATE TABLE ...
//	setup:
//	  - INSERT INTO ...
//	steps:
//	  - query: "from Child c where c.rank = :rank"
//	    params: { rank: 1 }
//	    expect:
//	      count: 2
//	      results: [{ name: c10 }]
//	  - query: "update Child c set c.rank = 3 where c.id = 12"
//	    expect: { affected: 1 }
//	assertions:
//	  - type: trace_contains
//	    sql: "FROM child c1"
//	  - type: final_state
//	    table: child
//	    where: { id: 12 }
//	    expect: { rank: 3 }
//
// # Assertion Types
//
//   - trace_contains: a step ran a statement containing the given SQL
//   - trace_count: exactly N steps ran a statement containing the given SQL
//   - final_state: queries a table and verifies expected column values
//   - plan_cache: the plan cache saw the given number of hits
//
// # Deterministic Testing
//
// Every step runs with a fixed execution ID (scenario.execution_id or
// "test-exec-default") in a fresh database, so traces are identical across
// runs and can be compared against golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/fan_out.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err == nil && !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
