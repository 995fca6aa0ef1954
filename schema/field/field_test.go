package field_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom/schema/field"
)

func TestType(t *testing.T) {
	assert.Equal(t, "string", field.TypeString.String())
	assert.Equal(t, "enum", field.TypeEnum.String())
	assert.Equal(t, "invalid", field.TypeInvalid.String())
	assert.Equal(t, "invalid", field.Type(200).String())

	assert.True(t, field.TypeBool.Valid())
	assert.False(t, field.TypeInvalid.Valid())
	assert.False(t, field.Type(200).Valid())

	for _, typ := range []field.Type{field.TypeInt, field.TypeInt64, field.TypeFloat64, field.TypeDecimal} {
		assert.True(t, typ.Numeric(), typ.String())
	}
	assert.False(t, field.TypeString.Numeric())
	assert.False(t, field.TypeTime.Numeric())
}

func TestStringBuilder(t *testing.T) {
	d := field.String("email").
		Unique().
		Nillable().
		Optional().
		Immutable().
		Column("email_addr").
		Comment("login identity").
		Descriptor()
	assert.Equal(t, "email", d.Name)
	assert.Equal(t, field.TypeString, d.Type)
	assert.Equal(t, "email_addr", d.Column)
	assert.True(t, d.Unique)
	assert.True(t, d.Nullable)
	assert.True(t, d.Optional)
	assert.True(t, d.Immutable)

	t.Run("default", func(t *testing.T) {
		d := field.String("status").Default("active").Descriptor()
		assert.Equal(t, "active", d.Default)
		d = field.String("token").DefaultFunc(func() string { return "x" }).Descriptor()
		require.NotNil(t, d.DefaultFunc)
		assert.Equal(t, "x", d.DefaultFunc())
	})

	t.Run("text", func(t *testing.T) {
		assert.Equal(t, field.TypeText, field.Text("body").Descriptor().Type)
	})
}

func TestIntBuilder(t *testing.T) {
	d := field.Int64("id").PrimaryKey().AutoIncrement().Descriptor()
	assert.Equal(t, field.TypeInt64, d.Type)
	assert.True(t, d.PrimaryKey)
	assert.True(t, d.AutoIncrement)

	d = field.Int("age").Optional().Default(18).UniqueGroup("identity").Descriptor()
	assert.Equal(t, field.TypeInt, d.Type)
	assert.Equal(t, int64(18), d.Default)
	assert.Equal(t, "identity", d.UniqueGroup)
}

func TestTimeBuilder(t *testing.T) {
	d := field.Time("updatedAt").
		Default(time.Now).
		UpdateDefault(time.Now).
		Descriptor()
	assert.Equal(t, field.TypeTime, d.Type)
	require.NotNil(t, d.DefaultFunc)
	_, ok := d.DefaultFunc().(time.Time)
	assert.True(t, ok)
	require.NotNil(t, d.UpdateDefault)
	_, ok = d.UpdateDefault().(time.Time)
	assert.True(t, ok)
}

func TestUUIDBuilder(t *testing.T) {
	d := field.UUID("id").Default(uuid.New).PrimaryKey().Descriptor()
	assert.Equal(t, field.TypeUUID, d.Type)
	assert.True(t, d.PrimaryKey)
	require.NotNil(t, d.DefaultFunc)
	v, ok := d.DefaultFunc().(uuid.UUID)
	assert.True(t, ok)
	assert.NotEqual(t, uuid.Nil, v)
}

func TestEnumBuilder(t *testing.T) {
	d := field.Enum("state").Values("active", "suspended").Default("active").Descriptor()
	assert.Equal(t, field.TypeEnum, d.Type)
	assert.Equal(t, []string{"active", "suspended"}, d.Values)
	assert.Equal(t, "active", d.Default)
}

func TestOtherBuilders(t *testing.T) {
	assert.Equal(t, field.TypeBool, field.Bool("active").Default(true).Descriptor().Type)
	assert.Equal(t, field.TypeFloat64, field.Float64("score").Descriptor().Type)
	assert.Equal(t, field.TypeDecimal, field.Decimal("price").Descriptor().Type)
	assert.Equal(t, field.TypeJSON, field.JSON("meta").Optional().Nillable().Descriptor().Type)
	assert.Equal(t, field.TypeBytes, field.Bytes("blob").Descriptor().Type)
}
