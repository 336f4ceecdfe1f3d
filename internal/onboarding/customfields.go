package onboarding

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/onboarding-cli/internal/model"
)

// AddCustomField adds a user field to a saved offering. String content is
// stripped of markup before it is stored.
func (o *Orchestrator) AddCustomField(ctx context.Context, offeringID, key string, value any, typ model.FieldType, label string) (*model.Offering, error) {
	return o.editOffering(ctx, offeringID, func(off *model.Offering) error {
		return off.AddCustomField(key, sanitizeValue(value), typ, clean(label), o.now())
	})
}

// UpdateCustomField replaces the value of an existing field. Who added the
// field is left as it was.
func (o *Orchestrator) UpdateCustomField(ctx context.Context, offeringID, key string, value any) (*model.Offering, error) {
	return o.editOffering(ctx, offeringID, func(off *model.Offering) error {
		return off.UpdateCustomField(key, sanitizeValue(value), o.now())
	})
}

// RemoveCustomField deletes a user field. Fields found by extraction cannot
// be removed.
func (o *Orchestrator) RemoveCustomField(ctx context.Context, offeringID, key string) (*model.Offering, error) {
	return o.editOffering(ctx, offeringID, func(off *model.Offering) error {
		return off.RemoveCustomField(key)
	})
}

// editOffering runs a read-modify-write of one offering under its lock.
func (o *Orchestrator) editOffering(ctx context.Context, id string, edit func(*model.Offering) error) (*model.Offering, error) {
	unlock := o.locks.Lock("offering:" + id)
	defer unlock()

	off, err := o.store.GetOffering(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "onboarding: get offering %s", id)
	}
	if off == nil {
		return nil, eris.Wrapf(ErrOfferingNotFound, "offering %s", id)
	}
	if err := edit(off); err != nil {
		return nil, err
	}
	off.UpdatedAt = o.now()
	if err := o.store.UpdateOffering(ctx, off); err != nil {
		return nil, eris.Wrapf(err, "onboarding: update offering %s", id)
	}
	return off, nil
}
