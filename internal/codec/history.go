package codec

import (
	"io"

	"github.com/papapumpkin/kiln/internal/filereg"
	"github.com/papapumpkin/kiln/internal/history"
	"github.com/papapumpkin/kiln/internal/opgraph"
)

// HistoryVersion is the only execution history format version this package reads.
const HistoryVersion uint32 = 2

// StoreHistory names the execution history in errors and logs.
const StoreHistory = "execution history"

// EncodeHistory writes h. File paths for every referenced id are taken from reg.
func EncodeHistory(w io.Writer, h *history.History, reg *filereg.Registry) error {
	var e encoder
	e.header(magicHistory, HistoryVersion)
	e.fileSection(h.Files(), reg)

	ids := h.IDs()
	e.tag(sectionResults)
	e.u32(uint32(len(ids)))
	for _, id := range ids {
		r, _ := h.Get(id)
		e.u32(uint32(id))
		e.boolean(r.WasSuccessful)
		e.millis(r.EvaluateTime)
		e.fileIDs(r.ObservedInputs)
		e.fileIDs(r.ObservedOutputs)
	}
	_, err := w.Write(e.buf)
	return err
}

// DecodeHistory reads a history whose file ids must agree with reg, with the
// same adoption rules as DecodeGraph.
func DecodeHistory(data []byte, reg *filereg.Registry) (*history.History, error) {
	d := newDecoder(StoreHistory, data)
	d.header(magicHistory, HistoryVersion)
	files := d.fileSection()

	d.section(sectionResults)
	n := d.count(20)
	type record struct {
		id opgraph.OperationID
		r  history.Result
	}
	records := make([]record, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		var rec record
		rec.id = opgraph.OperationID(d.u32())
		rec.r.WasSuccessful = d.boolean("wasSuccessful")
		rec.r.EvaluateTime = d.millis()
		rec.r.ObservedInputs = d.fileIDs()
		rec.r.ObservedOutputs = d.fileIDs()
		records = append(records, rec)
	}
	if err := d.finish(); err != nil {
		return nil, err
	}

	h := history.New()
	seen := make(map[opgraph.OperationID]bool, len(records))
	for _, rec := range records {
		if seen[rec.id] {
			return nil, loadErr(StoreHistory, KindCorrupt, "operation %d recorded twice", rec.id)
		}
		seen[rec.id] = true
		h.Record(rec.id, rec.r)
	}

	if err := checkReferenced(StoreHistory, files, h.Files()); err != nil {
		return nil, err
	}
	if err := bindFiles(StoreHistory, files, reg); err != nil {
		return nil, err
	}
	return h, nil
}
