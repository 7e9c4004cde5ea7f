package conversation

// Profile captures the parts of a user profile that gate item actions.
// Recipient marks users who may request donated items.
type Profile struct {
	ID        string `db:"id"`
	Username  string `db:"username"`
	Email     string `db:"email"`
	Recipient bool   `db:"refugee"`
}

// CanMessageAbout reports whether the profile may open a conversation about item:
// only recipients may, and never about their own donation.
func (p Profile) CanMessageAbout(item Item) bool {
	return p.Recipient && p.ID != "" && p.ID != item.OwnerID
}
