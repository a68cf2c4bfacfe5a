package conduct

import "github.com/commercekit/conduct/id"

// ID is the primary identifier type for all Conduct entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
