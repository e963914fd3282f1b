//go:build linux

package linuxfw

import (
	"errors"
	"strings"
	"testing"

	nft "github.com/google/nftables"
)

// fakeConn mirrors the teacher's in-memory nftables fake, narrowed to the
// conn interface above.
type fakeConn struct {
	tables []*nft.Table
	chains []*nft.Chain
	rules  map[*nft.Chain][]*nft.Rule

	listTablesErr error
	listChainsErr error
}

func (f *fakeConn) ListTables() ([]*nft.Table, error) {
	if f.listTablesErr != nil {
		return nil, f.listTablesErr
	}
	out := make([]*nft.Table, len(f.tables))
	copy(out, f.tables)
	return out, nil
}

func (f *fakeConn) ListChains() ([]*nft.Chain, error) {
	if f.listChainsErr != nil {
		return nil, f.listChainsErr
	}
	out := make([]*nft.Chain, len(f.chains))
	copy(out, f.chains)
	return out, nil
}

func (f *fakeConn) AddTable(t *nft.Table) *nft.Table {
	f.tables = append(f.tables, t)
	return t
}

func (f *fakeConn) AddChain(c *nft.Chain) *nft.Chain {
	f.chains = append(f.chains, c)
	return c
}

func (f *fakeConn) GetRules(_ *nft.Table, ch *nft.Chain) ([]*nft.Rule, error) {
	rs := f.rules[ch]
	out := make([]*nft.Rule, len(rs))
	copy(out, rs)
	return out, nil
}

func (f *fakeConn) AddRule(r *nft.Rule) *nft.Rule {
	if f.rules == nil {
		f.rules = map[*nft.Chain][]*nft.Rule{}
	}
	f.rules[r.Chain] = append(f.rules[r.Chain], r)
	return r
}

func (f *fakeConn) DelRule(r *nft.Rule) error {
	rs := f.rules[r.Chain]
	for i, rr := range rs {
		if rr == r {
			f.rules[r.Chain] = append(rs[:i], rs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeConn) Flush() error        { return nil }
func (f *fakeConn) CloseLasting() error { return nil }

func findForwardChain(t *testing.T, f *fakeConn) *nft.Chain {
	t.Helper()
	for _, c := range f.chains {
		if c.Table != nil && c.Table.Name == tableName && c.Name == chainName {
			return c
		}
	}
	t.Fatalf("forward chain not found")
	return nil
}

func hasClampRule(f *fakeConn, ch *nft.Chain) bool {
	for _, r := range f.rules[ch] {
		if string(r.UserData) == userTag {
			return true
		}
	}
	return false
}

func TestApplyInstallsClampRuleOnce(t *testing.T) {
	fc := &fakeConn{}
	m := newMSSClampWithConn(fc, "tun0")

	if err := m.Apply(); err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	ch := findForwardChain(t, fc)
	if !hasClampRule(fc, ch) {
		t.Fatalf("clamp rule missing after Apply")
	}
	if len(fc.rules[ch]) != 1 {
		t.Fatalf("expected exactly 1 rule, got %d", len(fc.rules[ch]))
	}

	if err := m.Apply(); err != nil {
		t.Fatalf("second Apply error: %v", err)
	}
	if len(fc.rules[ch]) != 1 {
		t.Fatalf("Apply is not idempotent: got %d rules", len(fc.rules[ch]))
	}
}

func TestRollbackRemovesClampRule(t *testing.T) {
	fc := &fakeConn{}
	m := newMSSClampWithConn(fc, "tun0")

	if err := m.Apply(); err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	ch := findForwardChain(t, fc)
	if err := m.Rollback(); err != nil {
		t.Fatalf("Rollback error: %v", err)
	}
	if hasClampRule(fc, ch) {
		t.Fatalf("clamp rule still present after Rollback")
	}
}

func TestRollbackWithoutApplyIsNoop(t *testing.T) {
	fc := &fakeConn{}
	m := newMSSClampWithConn(fc, "tun0")
	if err := m.Rollback(); err != nil {
		t.Fatalf("Rollback without Apply should be a no-op, got: %v", err)
	}
}

func TestApplyPropagatesListTablesError(t *testing.T) {
	fc := &fakeConn{listTablesErr: errors.New("boom")}
	m := newMSSClampWithConn(fc, "tun0")
	err := m.Apply()
	if err == nil || !strings.Contains(err.Error(), "list tables") {
		t.Fatalf("expected 'list tables' error, got: %v", err)
	}
}

func TestApplyPropagatesListChainsError(t *testing.T) {
	fc := &fakeConn{listChainsErr: errors.New("whoops")}
	m := newMSSClampWithConn(fc, "tun0")
	err := m.Apply()
	if err == nil || !strings.Contains(err.Error(), "list chains") {
		t.Fatalf("expected 'list chains' error, got: %v", err)
	}
}

func TestClampExprsMatchInterfaceName(t *testing.T) {
	exprs := clampExprs("wg0")
	if len(exprs) == 0 {
		t.Fatalf("clampExprs returned empty")
	}
}
