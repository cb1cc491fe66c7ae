package review

import (
	"encoding/json"

	errs "github.com/pkg/errors"
)

// CurrentUpgradeLevel is the schema version new and freshly saved records
// carry. Loading applies the upgrade steps from the stored level up to this
// one; the upgraded form only reaches storage on the record's next save.
const CurrentUpgradeLevel = 2

// upgradeStep transforms a raw decoded record from one schema version to the
// next. Steps are pure, ordered and idempotent; the version numbers are
// determined by the index in the steps slice.
// IMPORTANT: ALWAYS APPEND AT THE END AND DON'T CHANGE THE ORDER OF STEPS!
type upgradeStep func(record map[string]interface{}) map[string]interface{}

func upgradeSteps() []upgradeStep {
	return []upgradeStep{
		// Version 0 -> 1: participants used to be a flat list of user ids;
		// restructure into the map-of-property-maps form.
		upgradeParticipantList,
		// Version 1 -> 2: votes used to live in a separate top-level map of
		// user to raw value; merge them into the participant records.
		upgradeSeparateVotes,
	}
}

// UpgradeRecord applies the upgrade steps to a raw decoded record until it
// reaches the current schema level. Records already at or beyond the current
// level pass through unchanged, which makes the whole chain idempotent.
func UpgradeRecord(record map[string]interface{}) map[string]interface{} {
	steps := upgradeSteps()
	level := intField(record, "upgrade")
	for level < CurrentUpgradeLevel && level < len(steps) {
		record = steps[level](record)
		level++
		record["upgrade"] = level
	}
	return record
}

func upgradeParticipantList(record map[string]interface{}) map[string]interface{} {
	list, ok := record["participants"].([]interface{})
	if !ok {
		return record
	}
	participants := map[string]interface{}{}
	for _, entry := range list {
		if user, ok := entry.(string); ok && user != "" {
			participants[user] = map[string]interface{}{}
		}
	}
	record["participants"] = participants
	return record
}

func upgradeSeparateVotes(record map[string]interface{}) map[string]interface{} {
	votes, ok := record["votes"].(map[string]interface{})
	if !ok {
		return record
	}
	participants, ok := record["participants"].(map[string]interface{})
	if !ok {
		participants = map[string]interface{}{}
	}
	for user, rawValue := range votes {
		props, _ := participants[user].(map[string]interface{})
		if props == nil {
			props = map[string]interface{}{}
		}
		if _, voted := props["vote"]; !voted {
			// legacy votes carried no version; zero scans the whole history
			// and fails safe toward stale
			props["vote"] = map[string]interface{}{
				"value":   rawValue,
				"version": 0,
			}
		}
		participants[user] = props
	}
	record["participants"] = participants
	delete(record, "votes")
	return record
}

// DecodeRecord turns a persisted payload into a review aggregate, applying
// any outstanding schema upgrades and normalization on the way.
func DecodeRecord(payload []byte) (*Review, error) {
	raw := map[string]interface{}{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errs.Wrap(err, "failed to decode review record")
	}
	raw = UpgradeRecord(raw)
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, errs.Wrap(err, "failed to re-encode upgraded review record")
	}
	r := &Review{}
	if err := json.Unmarshal(buf, r); err != nil {
		return nil, errs.Wrap(err, "failed to decode upgraded review record")
	}
	r.Normalize()
	return r, nil
}

// EncodeRecord serializes a review into its canonical persisted payload,
// stamped with the current schema level.
func EncodeRecord(r *Review) ([]byte, error) {
	dup := r.Clone()
	dup.Normalize()
	dup.Upgrade = CurrentUpgradeLevel
	buf, err := json.Marshal(dup)
	if err != nil {
		return nil, errs.Wrap(err, "failed to encode review record")
	}
	return buf, nil
}

func intField(record map[string]interface{}, field string) int {
	switch v := record[field].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
