package export

import (
	"fmt"
	"time"
)

// SessionMeta identifies the session an export belongs to.
type SessionMeta struct {
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	MovementType string    `json:"movementType"`
	StartedAt    time.Time `json:"startedAt"`
}

// Label names a batch of snapshots: "DD/MM/YYYY-userId-movementType".
func (m SessionMeta) Label(at time.Time) string {
	return fmt.Sprintf("%s-%s-%s", at.Format("02/01/2006"), m.UserID, m.MovementType)
}

// VideoName is the name the composed video is requested under.
func (m SessionMeta) VideoName() string {
	return fmt.Sprintf("%s-%s-%s", m.UserID, m.MovementType, m.StartedAt.Format("20060102-150405"))
}

// ArtifactName scopes a file name to a session.
func ArtifactName(sessionID, file string) string {
	return sessionID + "-" + file
}

func (m SessionMeta) artifactName(file string) string {
	return ArtifactName(m.SessionID, file)
}

// objectMetadata tags uploads with the session they belong to.
func (m SessionMeta) objectMetadata() map[string]string {
	return map[string]string{
		"session-id":    m.SessionID,
		"user-id":       m.UserID,
		"movement-type": m.MovementType,
	}
}
