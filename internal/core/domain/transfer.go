package domain

// Direction selects which side of a transfer the wallet is on.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Directions lists both directions in merge order.
var Directions = []Direction{DirectionIncoming, DirectionOutgoing}

// Category is a transfer category understood by the provider.
type Category string

const (
	CategoryExternal Category = "external"
	CategoryInternal Category = "internal"
	CategoryERC20    Category = "erc20"
	CategoryERC721   Category = "erc721"
	CategoryERC1155  Category = "erc1155"
)

// DefaultCategories is the full set exported when config does not narrow it.
var DefaultCategories = []Category{
	CategoryExternal,
	CategoryInternal,
	CategoryERC20,
	CategoryERC721,
	CategoryERC1155,
}

// SortOrder of transfers within the provider's listing.
type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

// TransferRecord is one asset transfer as returned by the provider.
// It is never mutated after fetch; enrichment produces an EnrichedTransaction.
type TransferRecord struct {
	UniqueID        string    `json:"unique_id"`
	Hash            string    `json:"hash"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Category        Category  `json:"category"`
	Asset           string    `json:"asset"`
	Value           string    `json:"value"`
	ContractAddress string    `json:"contract_address,omitempty"`
	TokenID         string    `json:"token_id,omitempty"`
	BlockNumber     uint64    `json:"block_number"`
	BlockTimestamp  string    `json:"block_timestamp"`
	Direction       Direction `json:"direction"`
}
