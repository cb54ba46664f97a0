package domain

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	StatusAwaitingDeposit CampaignStatus = "awaiting_deposit"
	StatusActive          CampaignStatus = "active"
	StatusPaused          CampaignStatus = "paused"
	StatusCompleted       CampaignStatus = "completed"
	StatusCancelled       CampaignStatus = "cancelled"
)

// String returns the string representation of CampaignStatus.
func (s CampaignStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a valid value.
func (s CampaignStatus) IsValid() bool {
	switch s {
	case StatusAwaitingDeposit, StatusActive, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s CampaignStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// BuyStatus represents the outcome of a single buy cycle.
type BuyStatus string

const (
	BuySuccess BuyStatus = "success"
	BuyFailed  BuyStatus = "failed"
)

// String returns the string representation of BuyStatus.
func (s BuyStatus) String() string {
	return string(s)
}
