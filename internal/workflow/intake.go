package workflow

import (
	"context"
	"strings"

	"rtb-inventory-api/internal/models"
)

// BulkSuccess is one accepted row of a bulk call
type BulkSuccess struct {
	Index    int    `json:"index"`
	Key      string `json:"key"`
	ID       string `json:"id"`
	AssetTag string `json:"asset_tag,omitempty"`
}

// BulkFailure is one rejected row of a bulk call
type BulkFailure struct {
	Index  int    `json:"index"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// BulkResult partitions a bulk call. Rows are independent: one bad row
// never fails the batch.
type BulkResult struct {
	Successful []BulkSuccess `json:"successful"`
	Failed     []BulkFailure `json:"failed"`
}

func newBulkResult() *BulkResult {
	return &BulkResult{Successful: []BulkSuccess{}, Failed: []BulkFailure{}}
}

func (r *BulkResult) fail(i int, key string, err error) {
	r.Failed = append(r.Failed, BulkFailure{Index: i, Key: key, Reason: err.Error()})
}

// BulkRegisterDevices registers each row as RegisterDevice would. Only a
// failed role check fails the whole call.
func (c *Controller) BulkRegisterDevices(ctx context.Context, actor models.Actor, rows []models.CreateDeviceRequest) (*BulkResult, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	res := newBulkResult()
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			res.fail(i, row.SerialNumber, err)
			continue
		}
		d, err := c.RegisterDevice(ctx, actor, row)
		if err != nil {
			res.fail(i, row.SerialNumber, err)
			continue
		}
		res.Successful = append(res.Successful, BulkSuccess{Index: i, Key: d.SerialNumber, ID: d.ID})
	}
	c.logger.InfoContext(ctx, "bulk device registration",
		"rows", len(rows), "successful", len(res.Successful), "failed", len(res.Failed))
	return res, nil
}

// BulkAssign assigns each serial to the school with the given code, one
// transaction per item, through the engine's tagging path.
func (c *Controller) BulkAssign(ctx context.Context, actor models.Actor, items []models.BulkAssignItem) (*BulkResult, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	res := newBulkResult()
	for i, item := range items {
		item.SerialNumber = strings.TrimSpace(item.SerialNumber)
		item.SchoolCode = strings.ToUpper(strings.TrimSpace(item.SchoolCode))
		if err := c.checkStruct(item); err != nil {
			res.fail(i, item.SerialNumber, err)
			continue
		}
		school, err := c.store.GetSchoolByCode(ctx, item.SchoolCode)
		if err != nil {
			res.fail(i, item.SerialNumber, err)
			continue
		}
		d, err := c.store.GetDeviceBySerial(ctx, item.SerialNumber)
		if err != nil {
			res.fail(i, item.SerialNumber, err)
			continue
		}
		out, err := c.engine.AssignToSchool(ctx, actor, school.ID, []string{d.ID})
		if err != nil {
			res.fail(i, item.SerialNumber, err)
			continue
		}
		res.Successful = append(res.Successful, BulkSuccess{Index: i, Key: item.SerialNumber, ID: d.ID, AssetTag: out.Tags[0]})
	}
	c.logger.InfoContext(ctx, "bulk assignment",
		"items", len(items), "successful", len(res.Successful), "failed", len(res.Failed))
	return res, nil
}
