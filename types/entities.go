package types

import (
	"strings"
	"time"

	"github.com/saiset-co/sai-offline/utils"
)

type EntityType string

const (
	EntityCoach        EntityType = "coach"
	EntityUser         EntityType = "user"
	EntityMessage      EntityType = "message"
	EntityConversation EntityType = "conversation"
	EntitySession      EntityType = "session"
)

// AllEntityTypes lists every entity type in a stable order.
func AllEntityTypes() []EntityType {
	return []EntityType{EntityCoach, EntityUser, EntityMessage, EntityConversation, EntitySession}
}

func (t EntityType) Valid() bool {
	switch t {
	case EntityCoach, EntityUser, EntityMessage, EntityConversation, EntitySession:
		return true
	default:
		return false
	}
}

func (t EntityType) Plural() string {
	switch t {
	case EntityCoach:
		return "coaches"
	default:
		return string(t) + "s"
	}
}

func (t EntityType) String() string {
	return string(t)
}

// Entity is implemented by every concrete payload the remote provider and the
// action queue carry.
type Entity interface {
	EntityID() string
	EntityType() EntityType
	SearchText() string
	Attributes() map[string]string
}

type Coach struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Bio         string    `json:"bio,omitempty"`
	Specialties []string  `json:"specialties,omitempty"`
	Rating      float64   `json:"rating"`
	HourlyRate  float64   `json:"hourly_rate"`
	Available   bool      `json:"available"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c Coach) EntityID() string       { return c.ID }
func (c Coach) EntityType() EntityType { return EntityCoach }

func (c Coach) SearchText() string {
	return strings.Join(append([]string{c.Name, c.Bio}, c.Specialties...), " ")
}

func (c Coach) Attributes() map[string]string {
	return map[string]string{
		"id":        c.ID,
		"available": boolString(c.Available),
		"specialty": strings.Join(c.Specialties, ","),
	}
}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u User) EntityID() string       { return u.ID }
func (u User) EntityType() EntityType { return EntityUser }
func (u User) SearchText() string     { return u.Name + " " + u.Email }

func (u User) Attributes() map[string]string {
	return map[string]string{"id": u.ID, "role": u.Role}
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (m Message) EntityID() string       { return m.ID }
func (m Message) EntityType() EntityType { return EntityMessage }
func (m Message) SearchText() string     { return m.Content }

func (m Message) Attributes() map[string]string {
	return map[string]string{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
	}
}

type Conversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	ParticipantIDs []string  `json:"participant_ids"`
	LastMessage    string    `json:"last_message,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c Conversation) EntityID() string       { return c.ID }
func (c Conversation) EntityType() EntityType { return EntityConversation }
func (c Conversation) SearchText() string     { return c.Title + " " + c.LastMessage }

func (c Conversation) Attributes() map[string]string {
	return map[string]string{
		"id":          c.ID,
		"participant": strings.Join(c.ParticipantIDs, ","),
	}
}

type Session struct {
	ID              string    `json:"id"`
	CoachID         string    `json:"coach_id"`
	UserID          string    `json:"user_id"`
	Status          string    `json:"status"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Notes           string    `json:"notes,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s Session) EntityID() string       { return s.ID }
func (s Session) EntityType() EntityType { return EntitySession }
func (s Session) SearchText() string     { return s.Status + " " + s.Notes }

func (s Session) Attributes() map[string]string {
	return map[string]string{
		"id":       s.ID,
		"coach_id": s.CoachID,
		"user_id":  s.UserID,
		"status":   s.Status,
	}
}

// DecodeEntity decodes a single JSON payload into the concrete type for t.
func DecodeEntity(t EntityType, raw []byte) (Entity, error) {
	switch t {
	case EntityCoach:
		return decodeOne[Coach](raw)
	case EntityUser:
		return decodeOne[User](raw)
	case EntityMessage:
		return decodeOne[Message](raw)
	case EntityConversation:
		return decodeOne[Conversation](raw)
	case EntitySession:
		return decodeOne[Session](raw)
	default:
		return nil, Errorf(ErrUnknownEntityType, "type: %s", t)
	}
}

// DecodeEntities decodes a JSON array of payloads of type t.
func DecodeEntities(t EntityType, raw []byte) ([]Entity, error) {
	switch t {
	case EntityCoach:
		return decodeMany[Coach](raw)
	case EntityUser:
		return decodeMany[User](raw)
	case EntityMessage:
		return decodeMany[Message](raw)
	case EntityConversation:
		return decodeMany[Conversation](raw)
	case EntitySession:
		return decodeMany[Session](raw)
	default:
		return nil, Errorf(ErrUnknownEntityType, "type: %s", t)
	}
}

func decodeOne[T Entity](raw []byte) (Entity, error) {
	var v T
	if err := utils.Unmarshal(raw, &v); err != nil {
		return nil, WrapError(err, "failed to decode entity")
	}
	return v, nil
}

func decodeMany[T Entity](raw []byte) ([]Entity, error) {
	var values []T
	if err := utils.Unmarshal(raw, &values); err != nil {
		return nil, WrapError(err, "failed to decode entity list")
	}

	entities := make([]Entity, len(values))
	for i := range values {
		entities[i] = values[i]
	}
	return entities, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
