// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Key Principles:
// 1. Domain rows carry no GORM tags; persistence models own all table mappings
// 2. Child row ids are derived from the parent id and the row's natural key, so an
//    upsert of the same document always targets the same rows
// 3. Mappers (FromDomain / ToDomain) convert between domain rows and models
//
// Structure:
// - deal.go: the deal aggregate (deal, borrowers and their children, subject
//   property, mortgage request, mortgages, conditions, notes)
// - sync.go: engine bookkeeping (partitions, sync failure ledger)
package models
