// Package preflight provides readiness checks for the external binaries and
// filesystem paths that streamkeeper depends on.
//
// These checks run in two contexts:
//   - The orchestrator calls Verify before taking the instance lock. A
//     failure is fatal and maps to the prerequisite-missing exit code.
//   - The CLI "streamkeeper status" command shows RunAll results when the
//     daemon is not running.
package preflight
