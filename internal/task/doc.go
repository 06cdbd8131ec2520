// Package task defines the inbound task request, its validation, and the
// deterministic repository naming derived from it.
//
// A request is identified by (task, email, nonce). The repository name is a
// pure function of that identity so a round 2 request resolves to the
// repository created in round 1 without any persisted state.
package task
