package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null null", Null(), Null(), true},
		{"zero is null", Value{}, Null(), true},
		{"null vs empty string", Null(), String(""), false},
		{"null vs false", Null(), Bool(false), false},
		{"null vs zero", Null(), Number(0), false},
		{"same string", String("online"), String("online"), true},
		{"different string", String("online"), String("offline"), false},
		{"number vs string", Number(1), String("1"), false},
		{"same number", Number(87.5), Number(87.5), true},
		{"array order matters", Array(String("a"), String("b")), Array(String("b"), String("a")), false},
		{"array equal", Array(String("a"), Number(2)), Array(String("a"), Number(2)), true},
		{"array length", Array(String("a")), Array(String("a"), String("a")), false},
		{
			"object key order irrelevant",
			Object(map[string]Value{"x": Number(1), "y": Number(2)}),
			Object(map[string]Value{"y": Number(2), "x": Number(1)}),
			true,
		},
		{
			"object missing key",
			Object(map[string]Value{"x": Number(1)}),
			Object(map[string]Value{"x": Number(1), "y": Null()}),
			false,
		},
		{
			"nested object",
			Object(map[string]Value{"sensor": Object(map[string]Value{"type": String("temperature")})}),
			Object(map[string]Value{"sensor": Object(map[string]Value{"type": String("humidity")})}),
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a), "equality must be symmetric")
		})
	}
}

func TestValue_JSONRoundTrip(t *testing.T) {
	raw := `{"sensor_type":"temperature","thresholds":[1,2.5,null],"enabled":true,"owner":null}`

	var v Value
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	require.Equal(t, KindObject, v.Kind())

	fields := v.Fields()
	s, ok := fields["sensor_type"].AsString()
	require.True(t, ok)
	assert.Equal(t, "temperature", s)
	assert.True(t, fields["owner"].IsNull())
	assert.Len(t, fields["thresholds"].Items(), 3)

	out, err := json.Marshal(v)
	require.NoError(t, err)

	var back Value
	require.NoError(t, json.Unmarshal(out, &back))
	assert.True(t, v.Equal(back))
}

func TestValue_EmptyContainersMarshal(t *testing.T) {
	out, err := json.Marshal(Array())
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(out))

	out, err = json.Marshal(Object(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))

	out, err = json.Marshal(Null())
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestValue_ImmutableAccessors(t *testing.T) {
	v := Array(String("a"))
	items := v.Items()
	items[0] = String("mutated")
	assert.True(t, v.Equal(Array(String("a"))))

	o := Object(map[string]Value{"k": Number(1)})
	fields := o.Fields()
	fields["k"] = Number(2)
	assert.True(t, o.Equal(Object(map[string]Value{"k": Number(1)})))
}

func TestValue_StringIsCanonical(t *testing.T) {
	a := Object(map[string]Value{"b": Number(2), "a": Array(Bool(true), Null())})
	assert.Equal(t, `{"a":[true,null],"b":2}`, a.String())
}

func TestFromAny_Unsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)
}

func TestSnapshot_UnmarshalJSON(t *testing.T) {
	var s Snapshot
	require.NoError(t, json.Unmarshal([]byte(`{"status":"online","tags":["a"]}`), &s))
	assert.True(t, s.Get("status").Equal(String("online")))
	assert.True(t, s.Get("missing").IsNull())

	err := json.Unmarshal([]byte(`["not","an","object"]`), &s)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	err = json.Unmarshal([]byte(`"status"`), &s)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	var req SyncRequest
	require.NoError(t, json.Unmarshal([]byte(`{"local":null,"remote":{}}`), &req))
	assert.Nil(t, req.Local)
	assert.NotNil(t, req.Remote)
}

func TestSnapshot_NilGet(t *testing.T) {
	var s Snapshot
	assert.True(t, s.Get("name").IsNull())
}
