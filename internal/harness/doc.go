// Package harness runs YAML scenarios through the expense pipeline.
//
// A scenario carries its own input files. The harness writes them to a
// temporary directory, runs the pipeline with a fixed run id and clock,
// loads the result into an in-memory SQLite store and checks assertions.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	run_id: optional-fixed-id
//	files:
//	  - name: Relatorio_cadop.csv
//	    content: |
//	      REGISTRO_OPERADORA;CNPJ;Razao_Social;UF
//	      R1;12345678000199;Acme;SP
//	  - name: 1T2025.csv
//	    encoding: latin1   # optional, utf8 by default
//	    bom: true          # optional
//	    content: "..."
//	registry: Relatorio_cadop.csv
//	sources:
//	  - path: 1T2025.csv
//	    number_format: decimal_comma
//	keywords: [EVENTOS, SINISTROS]
//	group_by: [legalName, region]
//	expect_error: no_usable_input   # optional
//	assertions:
//	  - type: aggregate
//	    key: [Acme, SP]
//	    total: "10.00"
//
// # Assertion Types
//
//   - summary: compares a dotted path in the JSON run summary
//   - file_status: checks how one input file was handled
//   - consolidated_count: counts consolidated expenses
//   - aggregate: checks total, mean and count of one group
//   - final_state: queries a store table and verifies expected values
//
// Golden files under testdata/golden hold the consolidated and aggregate
// CSVs of a scenario; regenerate them with go test -update.
package harness
