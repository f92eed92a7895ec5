package aggregator

import "fmt"

// DataSourceError reports a required metric source that could not be read.
// No snapshot is produced when one occurs.
type DataSourceError struct {
	Source string
	Err    error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("metrics source %s: %v", e.Source, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

func sourceErr(source string, err error) error {
	if err == nil {
		return nil
	}
	return &DataSourceError{Source: source, Err: err}
}
