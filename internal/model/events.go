package model

// BountyInitializedData is the decoded BountyInitialized payload.
type BountyInitializedData struct {
	ProfileID string `json:"profile_id"`
	PubID     string `json:"pub_id"`
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
	Asker     string `json:"asker"`
}

// BountyPaidData is the decoded BountyPaid payload.
type BountyPaidData struct {
	ProfileID     string `json:"profile_id"`
	PubID         string `json:"pub_id"`
	ExpertAddress string `json:"expert_address"`
	Amount        string `json:"amount"`
}
