package core

// Index key types.
const (
	IndexAsc      = "1"
	IndexDesc     = "-1"
	IndexText     = "text"
	Index2DSphere = "2dsphere"
	Index2D       = "2d"
	IndexHashed   = "hashed"
)

// IndexField is one key of an index, in declaration order.
type IndexField struct {
	Key  string `yaml:"key"`
	Type string `yaml:"type"`
}

// Collation of a string index.
type Collation struct {
	Locale   string `yaml:"locale"`
	Strength int    `yaml:"strength,omitempty"`
}

// IndexDefinition declares an index to keep in sync with the store.
type IndexDefinition struct {
	Name               string       `yaml:"name"`
	Fields             []IndexField `yaml:"fields"`
	Unique             bool         `yaml:"unique,omitempty"`
	Sparse             bool         `yaml:"sparse,omitempty"`
	ExpireAfterSeconds *int32       `yaml:"expireAfterSeconds,omitempty"`
	Collation          *Collation   `yaml:"collation,omitempty"`
	DefaultLanguage    string       `yaml:"defaultLanguage,omitempty"`
	LanguageOverride   string       `yaml:"languageOverride,omitempty"`
}

// IndexSyncAction is what index synchronization did with one index.
type IndexSyncAction string

const (
	IndexUnchanged IndexSyncAction = "unchanged"
	IndexCreated   IndexSyncAction = "created"
	IndexRecreated IndexSyncAction = "recreated"
)

// IndexSyncResult reports the outcome for one declared index.
type IndexSyncResult struct {
	Name   string
	Action IndexSyncAction
}
