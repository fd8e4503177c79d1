package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/tap-aptem/internal/models"
)

func TestMapTypeIsTotal(t *testing.T) {
	tests := []struct {
		odataType string
		wantType  string
		format    string
	}{
		{"Edm.String", TypeString, ""},
		{"Edm.Binary", TypeString, ""},
		{"Edm.Duration", TypeString, ""},
		{"Edm.Time", TypeString, ""},
		{"Edm.Boolean", TypeBoolean, ""},
		{"Edm.Byte", TypeInteger, ""},
		{"Edm.SByte", TypeInteger, ""},
		{"Edm.Int16", TypeInteger, ""},
		{"Edm.Int32", TypeInteger, ""},
		{"Edm.Int64", TypeInteger, ""},
		{"Edm.Decimal", TypeNumber, ""},
		{"Edm.Double", TypeNumber, ""},
		{"Edm.Single", TypeNumber, ""},
		{"Edm.DateTime", TypeString, FormatDateTime},
		{"Edm.DateTimeOffset", TypeString, FormatDateTime},
		{"Edm.Date", TypeString, FormatDate},
		{"Edm.TimeOfDay", TypeString, FormatTime},
		{"Edm.Guid", TypeString, FormatUUID},
		{"Edm.GeographyPoint", TypeString, ""},
		{"Vendor.Unknown", TypeString, ""},
		{"", TypeString, ""},
	}

	for _, tt := range tests {
		t.Run(tt.odataType, func(t *testing.T) {
			p, err := MapType(tt.odataType)
			require.NoError(t, err)
			assert.Equal(t, Types{tt.wantType}, p.Type)
			assert.Equal(t, tt.format, p.Format)
		})
	}
}

func TestEveryKindHasSchema(t *testing.T) {
	for kind := range kindNames {
		_, err := kind.JSONSchema()
		assert.NoError(t, err, kind.String())
	}

	_, err := EdmKind(99).JSONSchema()
	var mappingErr *SchemaMappingError
	require.True(t, errors.As(err, &mappingErr))
	assert.Equal(t, EdmKind(99), mappingErr.Kind)
}

func testMetadata() *models.ODataMetadata {
	meta := models.NewODataMetadata("http://example.com/", "4.0")
	meta.ComplexTypes["NS.Address"] = &models.ComplexType{
		Name: "Address", Namespace: "NS", OpenType: true,
		Properties: []*models.EntityProperty{
			{Name: "Line1", Type: "Edm.String", Nullable: true},
		},
	}
	meta.ComplexTypes["NS.Node"] = &models.ComplexType{
		Name: "Node", Namespace: "NS",
		Properties: []*models.EntityProperty{
			{Name: "Label", Type: "Edm.String", Nullable: true},
			{Name: "Child", Type: "NS.Node", Nullable: true},
		},
	}
	meta.EntityTypes["NS.Student"] = &models.EntityType{
		Name: "Student", Namespace: "NS",
		KeyProperties: []string{"Id"},
		Properties: []*models.EntityProperty{
			{Name: "Id", Type: "Edm.Int32", IsKey: true},
			{Name: "createdDate", Type: "Edm.DateTimeOffset", Nullable: true},
			{Name: "UpdatedDate", Type: "Edm.DateTimeOffset", Nullable: true},
			{Name: "Name", Type: "Edm.String", Nullable: true},
			{Name: "Addresses", Type: "Collection(NS.Address)", Nullable: true},
			{Name: "Tree", Type: "NS.Node", Nullable: true},
		},
	}
	meta.EntityTypes["NS.Log"] = &models.EntityType{
		Name: "Log", Namespace: "NS",
		KeyProperties: []string{"Id"},
		Properties: []*models.EntityProperty{
			{Name: "Id", Type: "Edm.Guid", IsKey: true},
			{Name: "UpdatedDate", Type: "Edm.String", Nullable: true},
		},
	}
	meta.EntitySets = []*models.EntitySet{
		{Name: "Students", EntityType: "NS.Student"},
		{Name: "Logs", EntityType: "NS.Log"},
	}
	return meta
}

func TestBuilderBuild(t *testing.T) {
	meta := testMetadata()
	stream, err := NewBuilder(meta).Build(meta.EntitySets[0])
	require.NoError(t, err)

	assert.Equal(t, "Students", stream.Name)
	assert.Equal(t, []string{"Id"}, stream.KeyProperties)
	assert.Equal(t, "UpdatedDate", stream.ReplicationKey)
	assert.Equal(t, []string{"Id", "createdDate", "UpdatedDate", "Name", "Addresses", "Tree"}, stream.PropertyNames())

	id, _ := stream.Schema.Properties.Get("Id")
	assert.Equal(t, Types{TypeInteger}, id.Type, "keys are never nullable")

	created, _ := stream.Schema.Properties.Get("createdDate")
	assert.Equal(t, Types{TypeString, TypeNull}, created.Type)
	assert.Equal(t, FormatDateTime, created.Format)

	addresses, _ := stream.Schema.Properties.Get("Addresses")
	assert.Equal(t, Types{TypeArray, TypeNull}, addresses.Type)
	require.NotNil(t, addresses.Items)
	assert.Equal(t, Types{TypeObject}, addresses.Items.Type)
	assert.True(t, *addresses.Items.AdditionalProperties)
	assert.Equal(t, []string{"Line1"}, addresses.Items.Properties.Names())

	tree, _ := stream.Schema.Properties.Get("Tree")
	child, ok := tree.Properties.Get("Child")
	require.True(t, ok)
	assert.Equal(t, 0, child.Properties.Len(), "recursion is cut at the second visit")
	assert.True(t, *child.AdditionalProperties)
}

func TestReplicationKeySelection(t *testing.T) {
	meta := testMetadata()

	t.Run("candidates are case insensitive and ordered", func(t *testing.T) {
		stream, err := NewBuilder(meta, WithReplicationKeyCandidates([]string{"CreatedDate"})).Build(meta.EntitySets[0])
		require.NoError(t, err)
		assert.Equal(t, "createdDate", stream.ReplicationKey)
	})

	t.Run("non date-time candidates are ignored", func(t *testing.T) {
		stream, err := NewBuilder(meta).Build(meta.EntitySets[1])
		require.NoError(t, err)
		assert.Empty(t, stream.ReplicationKey)
	})

	t.Run("override", func(t *testing.T) {
		stream, err := NewBuilder(meta, WithReplicationKeys(map[string]string{"Students": "createdDate"})).Build(meta.EntitySets[0])
		require.NoError(t, err)
		assert.Equal(t, "createdDate", stream.ReplicationKey)
	})

	t.Run("empty override forces full table", func(t *testing.T) {
		stream, err := NewBuilder(meta, WithReplicationKeys(map[string]string{"Students": ""})).Build(meta.EntitySets[0])
		require.NoError(t, err)
		assert.Empty(t, stream.ReplicationKey)
	})

	t.Run("override must be a date-time property", func(t *testing.T) {
		_, err := NewBuilder(meta, WithReplicationKeys(map[string]string{"Students": "Name"})).Build(meta.EntitySets[0])
		assert.Error(t, err)
		_, err = NewBuilder(meta, WithReplicationKeys(map[string]string{"Students": "Missing"})).Build(meta.EntitySets[0])
		assert.Error(t, err)
	})
}

func TestSchemaJSONKeepsOrder(t *testing.T) {
	meta := testMetadata()
	stream, err := NewBuilder(meta).Build(meta.EntitySets[0])
	require.NoError(t, err)

	data, err := json.Marshal(stream.Schema)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"properties":{"Id":{"type":"integer"},"createdDate":{"type":["string","null"],"format":"date-time"}`)

	var decoded Property
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, stream.PropertyNames(), decoded.Properties.Names())

	again, err := json.Marshal(&decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestStreamSchemaSelect(t *testing.T) {
	meta := testMetadata()
	stream, err := NewBuilder(meta).Build(meta.EntitySets[0])
	require.NoError(t, err)

	selected := stream.Select([]string{"Name"})
	assert.Equal(t, []string{"Id", "UpdatedDate", "Name"}, selected.PropertyNames())
	assert.Len(t, stream.PropertyNames(), 6, "the receiver is untouched")
}
