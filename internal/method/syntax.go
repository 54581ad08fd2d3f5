package method

import (
	"context"
	"reflect"
	"time"
)

func (m *Method) SleepMilliseconds(ctx context.Context, milliseconds int) error {
	select {
	case <-time.After(time.Duration(milliseconds) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Method) Len(arr any) int {
	v := reflect.ValueOf(arr)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return v.Len()
	}
	return 0
}
