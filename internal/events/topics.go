package events

// Topic constants for domain events emitted by the POS.
const (
	TopicPresaleCreated = "presale.created"
	TopicPresaleSettled = "presale.settled"
	TopicSaleRegistered = "sale.registered"
)

// DefaultTopics returns the topics that feed the sales report.
func DefaultTopics() []string {
	return []string{
		TopicPresaleSettled,
		TopicSaleRegistered,
	}
}
