package events

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Encode writes o as a JSON object. Empty optional fields are omitted.
func (o Outcome) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("attempt_id")
	e.Str(o.AttemptID)
	e.FieldStart("state")
	e.Str(o.State)
	if o.OrderID != "" {
		e.FieldStart("order_id")
		e.Str(o.OrderID)
	}
	if o.PaymentReference != "" {
		e.FieldStart("payment_reference")
		e.Str(o.PaymentReference)
	}
	e.FieldStart("total")
	e.Str(o.Total)
	if o.Reason != "" {
		e.FieldStart("reason")
		e.Str(o.Reason)
	}
	if o.NeedsReconciliation {
		e.FieldStart("needs_reconciliation")
		e.Bool(true)
	}
	e.FieldStart("finished_at")
	encodeTime(e, o.FinishedAt)
	e.ObjEnd()
}

// Decode reads o from a JSON object. Unknown fields are skipped.
func (o *Outcome) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "attempt_id":
			o.AttemptID, err = d.Str()
		case "state":
			o.State, err = d.Str()
		case "order_id":
			o.OrderID, err = d.Str()
		case "payment_reference":
			o.PaymentReference, err = d.Str()
		case "total":
			o.Total, err = d.Str()
		case "reason":
			o.Reason, err = d.Str()
		case "needs_reconciliation":
			o.NeedsReconciliation, err = d.Bool()
		case "finished_at":
			o.FinishedAt, err = decodeTime(d)
		default:
			return d.Skip()
		}
		return errors.Wrapf(err, "decode %q", key)
	})
}

// Encode writes inc as a JSON object.
func (inc Inconsistency) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("attempt_id")
	e.Str(inc.AttemptID)
	e.FieldStart("order_id")
	e.Str(inc.OrderID)
	e.FieldStart("payment_reference")
	e.Str(inc.PaymentReference)
	e.FieldStart("total")
	e.Str(inc.Total)
	e.FieldStart("cause")
	e.Str(inc.Cause)
	e.FieldStart("detected_at")
	encodeTime(e, inc.DetectedAt)
	e.ObjEnd()
}

// Decode reads inc from a JSON object. Unknown fields are skipped.
func (inc *Inconsistency) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "attempt_id":
			inc.AttemptID, err = d.Str()
		case "order_id":
			inc.OrderID, err = d.Str()
		case "payment_reference":
			inc.PaymentReference, err = d.Str()
		case "total":
			inc.Total, err = d.Str()
		case "cause":
			inc.Cause, err = d.Str()
		case "detected_at":
			inc.DetectedAt, err = decodeTime(d)
		default:
			return d.Skip()
		}
		return errors.Wrapf(err, "decode %q", key)
	})
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}
