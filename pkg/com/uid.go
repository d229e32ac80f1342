package com

import "github.com/rs/xid"

// Uid is a compact globally unique id for sockets and packets.
type Uid struct{ xid.ID }

var NilUid = Uid{xid.NilID()}

func NewUid() Uid { return Uid{xid.New()} }

func (u Uid) IsEmpty() bool { return u.IsNil() }

// Short is a log-friendly contraction of the id.
func (u Uid) Short() string {
	s := u.String()
	return s[:3] + "." + s[len(s)-3:]
}
