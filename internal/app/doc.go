// Package app composes the raffle services into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── round/          # Rounds, purchases, and the ticket ledger
//	│   ├── directory/      # Current round pointer and pending queue
//	│   ├── randomness/     # Randomness request lifecycle
//	│   ├── treasury/       # Vault accounts and transfers
//	│   ├── pricefeed/      # Market quotes
//	│   └── checked/        # Overflow-checked arithmetic
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # RoundStore, PurchaseStore, DirectoryStore, ...
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── rounds/         # Round lifecycle, purchases, winner state
//	│   ├── draw/           # Winner selection and the draw scheduler
//	│   ├── randomness/     # External randomness requests and delivery
//	│   ├── claims/         # Prize settlement
//	│   ├── treasury/       # Vault funding and transfers
//	│   └── pricefeed/      # Oracle-derived ticket pricing
//	├── httpapi/            # REST handlers and audit middleware
//	├── events/             # In-process pub/sub bus
//	├── system/             # Service lifecycle management
//	└── metrics/            # Prometheus instrumentation
//
// # Data Flow
//
// Purchases flow through the rounds service, which owns all round and
// directory state behind a single mutex. When a round's sales window
// elapses, the draw scheduler selects it for processing and requests
// randomness; delivery triggers winner selection, which completes the
// round through the rounds service. The winner then claims through the
// claims service, which settles the prize and commission out of the
// prize vault exactly once.
package app
