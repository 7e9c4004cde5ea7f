package conversation

// Item is a donated item. Only the fields this service reads are mapped.
type Item struct {
	ID             string  `json:"id" db:"id"`
	Name           string  `json:"item_name" db:"item_name"`
	Description    string  `json:"item_description" db:"item_description"`
	ImageRef       string  `json:"image_src" db:"imageSrc"`
	Condition      string  `json:"condition" db:"condition"`
	Postcode       string  `json:"postcode" db:"postcode"`
	OwnerID        string  `json:"donor_id" db:"profile_id"`
	Collectible    bool    `json:"collectible" db:"collectible"`
	Postable       bool    `json:"postable" db:"postable"`
	PostageCovered bool    `json:"postage_covered" db:"postage_covered"`
	Reserved       bool    `json:"reserved" db:"reserved"`
	ReservedBy     *string `json:"reserved_by,omitempty" db:"reserved_by"`
}

// ItemDisplay holds the fields used to enrich a conversation summary.
type ItemDisplay struct {
	Name     string `json:"name"`
	ImageRef string `json:"image_ref"`
}

// Display returns the enrichment view of the item.
func (i Item) Display() ItemDisplay {
	return ItemDisplay{Name: i.Name, ImageRef: i.ImageRef}
}
