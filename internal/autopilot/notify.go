package autopilot

import "github.com/gen2brain/beeep"

type Notifier interface {
	Notify(title, message string) error
}

// Desktop shows OS notifications.
type Desktop struct{}

func (Desktop) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}
