package transaction

// ReadModifyWrite reads every declared record and increments each record of
// the write set.
type ReadModifyWrite struct{}

func (ReadModifyWrite) Run(act *Action, db Storage) {
	for _, k := range act.ReadSet() {
		_ = db.ReadRecordValue(k)
	}
	for _, k := range act.WriteSet() {
		db.WriteRecordValue(k, db.ReadRecordValue(k)+1)
	}
}
