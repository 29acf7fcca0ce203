package linux

import (
	"os"

	"golang.org/x/sys/unix"
)

// MqAttr mirrors the subset of struct mq_attr the manifest surface exposes
// (MessageQueueMaxMessages, MessageQueueMessageSize).
type MqAttr struct {
	Maxmsg  int64
	Msgsize int64
}

// MqOpen opens (and, with O_CREAT, creates) a POSIX message queue at name
// (which must start with "/") with the given mode and, if attr is non-nil,
// the given maxmsg/msgsize attributes. Matches spec.md §4.2 MessageQueue:
// flags are always O_RDONLY|O_CLOEXEC|O_NONBLOCK|O_CREAT.
func MqOpen(name string, mode uint32, attr *MqAttr) (*os.File, error) {
	var sysAttr *unix.MqAttr
	if attr != nil {
		sysAttr = &unix.MqAttr{
			Flags:   unix.O_NONBLOCK,
			Maxmsg:  attr.Maxmsg,
			Msgsize: attr.Msgsize,
		}
	}

	flags := unix.O_RDONLY | unix.O_CLOEXEC | unix.O_NONBLOCK | unix.O_CREAT

	fd, err := unix.Mq_open(name, flags, mode, sysAttr)
	if err != nil {
		return nil, err
	}

	return os.NewFile(uintptr(fd), name), nil
}

// MqUnlink removes a POSIX message queue by name. Only used before
// re-creation, never after a plain close — PortSet.close must never delete
// the filesystem/queue node it owns.
func MqUnlink(name string) error {
	return unix.Mq_unlink(name)
}
