package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"maildossier/models"
)

// DossierStorage keeps the generated dossiers of every user
type DossierStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewDossierStorage creates a dossier store on an opened database
func NewDossierStorage(db *bbolt.DB) *DossierStorage {
	return &DossierStorage{db: db, now: time.Now}
}

// Save stores d, assigning an id and creation time when missing
func (s *DossierStorage) Save(d *models.Dossier) error {
	if d.UserEmail == "" {
		return fmt.Errorf("dossier has no owner")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now().UTC()
	}
	d.UserEmail = strings.ToLower(d.UserEmail)

	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(dossierBucket)).Put([]byte(d.ID), data)
	})
}

// Get returns the dossier id when it belongs to userEmail
func (s *DossierStorage) Get(userEmail, id string) (*models.Dossier, error) {
	var d models.Dossier
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(dossierBucket)).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(d.UserEmail, userEmail) {
		return nil, ErrNotFound
	}
	return &d, nil
}

// ListByUser returns the dossiers of userEmail, newest first
func (s *DossierStorage) ListByUser(userEmail string) ([]*models.Dossier, error) {
	dossiers := []*models.Dossier{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(dossierBucket)).ForEach(func(k, v []byte) error {
			var d models.Dossier
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if strings.EqualFold(d.UserEmail, userEmail) {
				dossiers = append(dossiers, &d)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(dossiers, func(i, j int) bool {
		return dossiers[i].CreatedAt.After(dossiers[j].CreatedAt)
	})
	return dossiers, nil
}

// Delete removes the dossier id when it belongs to userEmail
func (s *DossierStorage) Delete(userEmail, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(dossierBucket))
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var d models.Dossier
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		if !strings.EqualFold(d.UserEmail, userEmail) {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}
