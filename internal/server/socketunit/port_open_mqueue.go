package socketunit

import (
	"fmt"

	"golang.org/x/sys/unix"

	ilinux "github.com/DankBSD/InitWare/internal/linux"
)

// openMessageQueuePort implements spec.md §4.2's MessageQueue case.
func (u *SocketUnit) openMessageQueuePort(p *Port) error {
	pa, ok := p.Address.(PathAddress)
	if !ok {
		return fmt.Errorf("port kind mqueue with non-path address")
	}

	var attr *ilinux.MqAttr
	if u.cfg.MessageQueueMaxMessages > 0 && u.cfg.MessageQueueMessageSize > 0 {
		attr = &ilinux.MqAttr{
			Maxmsg:  u.cfg.MessageQueueMaxMessages,
			Msgsize: u.cfg.MessageQueueMessageSize,
		}
	}

	oldUmask := unix.Umask(0)
	f, err := ilinux.MqOpen(pa.Path, u.cfg.SocketMode, attr)
	unix.Umask(oldUmask)

	if err != nil {
		return fmt.Errorf("mq_open: %w", err)
	}

	effectiveMode := u.cfg.SocketMode &^ uint32(oldUmask)
	if err := verifyOwnedNode(int(f.Fd()), 0, effectiveMode&0o777); err != nil {
		_ = f.Close()
		return err
	}

	p.setFile(f)

	return nil
}
