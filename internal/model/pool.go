package model

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/surge-downloader/ariasync/internal/store"
)

// PoolInfo is a detached snapshot of a pool.
type PoolInfo struct {
	ID       string
	Name     string
	Host     string
	Port     int
	Secret   string // daemon RPC token
	User     string
	Password string

	SessionID   string
	CategoryIDs []string
	QueuingID   string
	DustbinID   string

	State ConnState
}

// Pool is one daemon instance the core talks to.
type Pool struct {
	st      store.Store
	section string
	info    PoolInfo
}

func (p *Pool) ID() string        { return p.info.ID }
func (p *Pool) Name() string      { return p.info.Name }
func (p *Pool) SessionID() string { return p.info.SessionID }
func (p *Pool) State() ConnState  { return p.info.State }
func (p *Pool) QueuingID() string { return p.info.QueuingID }
func (p *Pool) DustbinID() string { return p.info.DustbinID }

// Address is host:port of the daemon.
func (p *Pool) Address() string {
	return net.JoinHostPort(p.info.Host, strconv.Itoa(p.info.Port))
}

// Info returns a copy of the pool state.
func (p *Pool) Info() PoolInfo {
	out := p.info
	out.CategoryIDs = slices.Clone(p.info.CategoryIDs)
	return out
}

// AllCategoryIDs returns user categories followed by the Queuing and Dustbin collections.
func (p *Pool) AllCategoryIDs() []string {
	ids := slices.Clone(p.info.CategoryIDs)
	if p.info.QueuingID != "" {
		ids = append(ids, p.info.QueuingID)
	}
	if p.info.DustbinID != "" {
		ids = append(ids, p.info.DustbinID)
	}
	return ids
}

// SetSessionID persists the last-known daemon session.
func (p *Pool) SetSessionID(id string) error {
	if err := p.st.WriteKey(p.section, "session", id); err != nil {
		return fmt.Errorf("persist pool %s: %w", p.info.ID, err)
	}
	p.info.SessionID = id
	return nil
}

// SetState changes the runtime connection state and reports whether it changed.
func (p *Pool) SetState(s ConnState) bool {
	if p.info.State == s {
		return false
	}
	p.info.State = s
	return true
}

func (p *Pool) addCategory(id string) error {
	if slices.Contains(p.info.CategoryIDs, id) {
		return nil
	}
	next := append(slices.Clone(p.info.CategoryIDs), id)
	if err := p.writeCategories(next); err != nil {
		return err
	}
	p.info.CategoryIDs = next
	return nil
}

func (p *Pool) removeCategory(id string) error {
	i := slices.Index(p.info.CategoryIDs, id)
	if i < 0 {
		return nil
	}
	next := slices.Delete(slices.Clone(p.info.CategoryIDs), i, i+1)
	if err := p.writeCategories(next); err != nil {
		return err
	}
	p.info.CategoryIDs = next
	return nil
}

func (p *Pool) writeCategories(ids []string) error {
	if err := p.st.WriteKey(p.section, "categories", strings.Join(ids, ",")); err != nil {
		return fmt.Errorf("persist pool %s: %w", p.info.ID, err)
	}
	return nil
}

func poolRecord(info PoolInfo) map[string]string {
	return map[string]string{
		"name":       info.Name,
		"host":       info.Host,
		"port":       strconv.Itoa(info.Port),
		"secret":     info.Secret,
		"user":       info.User,
		"password":   info.Password,
		"session":    info.SessionID,
		"categories": strings.Join(info.CategoryIDs, ","),
		"queuing":    info.QueuingID,
		"dustbin":    info.DustbinID,
	}
}

// PoolFromRecord rebuilds a pool from its persisted section. Pools always start
// disconnected.
func PoolFromRecord(st store.Store, id string, rec map[string]string) (*Pool, error) {
	info := PoolInfo{
		ID:        id,
		Name:      rec["name"],
		Host:      rec["host"],
		Secret:    rec["secret"],
		User:      rec["user"],
		Password:  rec["password"],
		SessionID: rec["session"],
		QueuingID: rec["queuing"],
		DustbinID: rec["dustbin"],
		State:     Disconnected,
	}
	port, err := strconv.Atoi(rec["port"])
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("pool %s: invalid port %q", id, rec["port"])
	}
	info.Port = port
	if raw := rec["categories"]; raw != "" {
		info.CategoryIDs = strings.Split(raw, ",")
	}
	return &Pool{st: st, section: store.Section(SectionPool, id), info: info}, nil
}
