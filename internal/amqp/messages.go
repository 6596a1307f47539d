package amqp

import (
	"encoding/json"
	"time"
)

// ProcessRecurringMessage is the work descriptor for one due recurring
// transaction. It carries only identifiers; the worker reloads the row and
// re-checks the due predicate, which is what makes duplicate delivery safe.
type ProcessRecurringMessage struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewProcessRecurringMessage(transactionID, userID string) *ProcessRecurringMessage {
	return &ProcessRecurringMessage{
		TransactionID: transactionID,
		UserID:        userID,
		Timestamp:     time.Now(),
	}
}

func (m *ProcessRecurringMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ProcessRecurringMessageFromJSON(data []byte) (*ProcessRecurringMessage, error) {
	var msg ProcessRecurringMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
