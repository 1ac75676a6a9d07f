package syncstate

// ChangedSince returns the lower bound for an incremental fetch of source.
// A source with no prior state yields "" and a nil error: the caller
// proceeds unfiltered. Any other lookup failure is returned.
func ChangedSince(state *State, source string) (string, error) {
	if state == nil {
		return "", nil
	}
	ts, err := state.Tables().Get(source)
	if err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return ts.LastImportDate, nil
}

// FilesSinceID returns the last imported file id for a tag set, or "" when
// the tag set has never been synchronized.
func FilesSinceID(state *State, tags []Tag) (string, error) {
	if state == nil {
		return "", nil
	}
	fs, err := state.Files().Get(tags)
	if err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return fs.LastImportID, nil
}
