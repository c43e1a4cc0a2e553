// Package indexes derives the secondary index records of a user. Each index
// row is keyed by a derived attribute and points back at the user, so a
// single point read tests uniqueness and locates the owner.
//
// ForUser is what migrations rebuild from. Diff and Queue are the contract
// for a user store applying an attribute change on the live path: it diffs
// the user before and after the update and queues the result on the same
// writer as the user row.
package indexes

import (
	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/models"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/batch"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

// UserName returns the user-name index of u.
func UserName(s keys.Scheme, u *models.User) *models.IndexRecord {
	return models.NewIndexRecord(s.PartitionKeyUserName(u.UserName), s.RowKeyUser(u.ID), u.ID, s.KeyVersion())
}

// Email returns the e-mail index of u, or nil when u has no e-mail.
func Email(s keys.Scheme, u *models.User) *models.IndexRecord {
	if u.Email == "" {
		return nil
	}
	return models.NewIndexRecord(s.PartitionKeyEmail(u.Email), s.RowKeyUser(u.ID), u.ID, s.KeyVersion())
}

// Login returns the login index of l, owned by userID.
func Login(s keys.Scheme, userID string, l *models.UserLogin) *models.IndexRecord {
	return models.NewIndexRecord(s.PartitionKeyLogin(l.LoginProvider, l.ProviderKey), s.RowKeyUser(userID), userID, s.KeyVersion())
}

// ForUser returns every index record u should have.
func ForUser(s keys.Scheme, u *models.User, logins []*models.UserLogin) []*models.IndexRecord {
	out := []*models.IndexRecord{UserName(s, u)}
	if e := Email(s, u); e != nil {
		out = append(out, e)
	}
	for _, l := range logins {
		out = append(out, Login(s, u.ID, l))
	}
	return out
}

// Diff compares the user-name and e-mail indexes of a user before and after
// an attribute change. Stale records must be deleted and fresh ones upserted;
// an index whose derived key did not move appears in neither.
func Diff(s keys.Scheme, before, after *models.User) (stale, fresh []*models.IndexRecord) {
	pairs := [][2]*models.IndexRecord{
		{UserName(s, before), UserName(s, after)},
		{Email(s, before), Email(s, after)},
	}
	for _, p := range pairs {
		old, cur := p[0], p[1]
		if old != nil && cur != nil && old.PartitionKey == cur.PartitionKey && old.RowKey == cur.RowKey {
			continue
		}
		if old != nil {
			stale = append(stale, old)
		}
		if cur != nil {
			fresh = append(fresh, cur)
		}
	}
	return stale, fresh
}

// Queue buffers the deletes and upserts of a diff on w. Every index row is
// its own partition, so a stale row that is already gone fails alone.
func Queue(w *batch.Writer, stale, fresh []*models.IndexRecord) {
	for _, x := range stale {
		w.DeleteEntity(x.Entity())
	}
	for _, x := range fresh {
		w.UpsertEntity(x.Entity(), table.Replace)
	}
}
