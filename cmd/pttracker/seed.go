package main

import (
	"context"
	"io/ioutil"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/storage"
)

// seedFile lists the accounts and torrents a fresh store starts with. The
// site owns both; the file stands in for it on a standalone tracker.
type seedFile struct {
	Users    []seedUser    `yaml:"users"`
	Torrents []seedTorrent `yaml:"torrents"`
}

type seedUser struct {
	ID        uint64    `yaml:"id"`
	Passkey   string    `yaml:"passkey"`
	Status    string    `yaml:"status"`
	VIP       bool      `yaml:"vip"`
	Oper      bool      `yaml:"oper"`
	CreatedAt time.Time `yaml:"created_at"`
}

type seedTorrent struct {
	InfoHash   string    `yaml:"info_hash"`
	OwnerID    uint64    `yaml:"owner_id"`
	Status     string    `yaml:"status"`
	Size       uint64    `yaml:"size"`
	VIP        bool      `yaml:"vip"`
	HnR        bool      `yaml:"hnr"`
	SaleStatus string    `yaml:"sale_status"`
	CreatedAt  time.Time `yaml:"created_at"`
}

func parseSeedFile(path string) (*seedFile, error) {
	contents, err := ioutil.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, err
	}

	var sf seedFile
	if err := yaml.Unmarshal(contents, &sf); err != nil {
		return nil, errors.Wrap(err, "malformed seed file")
	}
	return &sf, nil
}

// load writes the seeded records into s, replacing existing ones.
func (sf *seedFile) load(ctx context.Context, s storage.Store, now time.Time) error {
	for _, su := range sf.Users {
		u := &storage.User{
			ID:        su.ID,
			Passkey:   su.Passkey,
			Status:    su.Status,
			IsVIP:     su.VIP,
			IsOper:    su.Oper,
			CreatedAt: su.CreatedAt,
			Ratio:     -1,
		}
		if u.Status == "" {
			u.Status = storage.UserStatusNormal
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		if err := s.PutUser(ctx, u); err != nil {
			return errors.Wrapf(err, "failed to seed user %d", su.ID)
		}
	}

	for _, st := range sf.Torrents {
		ih, err := bittorrent.InfoHashFromHexString(st.InfoHash)
		if err != nil {
			return errors.Wrapf(err, "invalid seeded torrent %q", st.InfoHash)
		}
		t := &storage.Torrent{
			InfoHash:   ih,
			OwnerID:    st.OwnerID,
			Status:     st.Status,
			Size:       st.Size,
			VIP:        st.VIP,
			HnR:        st.HnR,
			SaleStatus: st.SaleStatus,
			CreatedAt:  st.CreatedAt,
		}
		if t.Status == "" {
			t.Status = storage.TorrentStatusReviewed
		}
		if t.SaleStatus == "" {
			t.SaleStatus = storage.DefaultSaleStatus
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if err := s.PutTorrent(ctx, t); err != nil {
			return errors.Wrapf(err, "failed to seed torrent %s", ih)
		}
	}

	return nil
}
