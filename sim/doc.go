// Package sim provides the core orchestration loop for a distributed-memory,
// adaptively-refined finite-volume advection simulation.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - cell.go: Cell state, classification tags, and transfer modes
//   - flux.go: The upwind flux kernel and its inner/outer split
//   - orchestrator.go: The per-step state machine that interleaves halo
//     exchange, flux computation, adaptation, and load balancing
//
// # Architecture
//
// The sim package defines the Mesh interface and the control loop;
// collaborators live in sub-packages:
//   - sim/comm/: in-process message passing between ranks (point-to-point
//     sends with separate completion, collective reductions, barriers)
//   - sim/dgrid/: the distributed adaptively-refined Cartesian grid
//     implementing Mesh (cells, neighbor topology, halo exchange,
//     refine/unrefine, rebalancing strategies)
//
// # Key Interfaces
//
// The extension points are small interfaces and policy structs:
//   - Mesh: everything the orchestrator needs from the grid collaborator
//   - Classifier: the tunable refine/keep/unrefine decision policy
//   - Initializer: a func applying the initial condition to one cell
//
// Per step the orchestrator runs: start halo exchange -> inner fluxes ->
// wait receives -> outer fluxes -> wait sends -> (classify) -> apply
// fluxes -> (adapt) -> (balance). The two wait calls are the only
// safety-critical ordering constraints; see orchestrator.go.
package sim
