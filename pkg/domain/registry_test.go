package domain

// staticRegistry is a SchemaRegistry backed by a fixed entity map.
type staticRegistry map[string]EntitySpec

func (r staticRegistry) EntitySpec(entityType string) (EntitySpec, error) {
	spec, ok := r[entityType]
	if !ok {
		return EntitySpec{}, SchemaResolutionError{EntityType: entityType}
	}
	return spec, nil
}

func (r staticRegistry) AspectSpec(entityType, aspectName string) (AspectSpec, error) {
	spec, err := r.EntitySpec(entityType)
	if err != nil {
		return AspectSpec{}, err
	}
	aspect, ok := spec.Aspects[aspectName]
	if !ok {
		return AspectSpec{}, SchemaResolutionError{EntityType: entityType, AspectName: aspectName}
	}
	return aspect, nil
}

func (r staticRegistry) KeyAspectName(entityType string) (string, error) {
	spec, err := r.EntitySpec(entityType)
	if err != nil {
		return "", err
	}
	return spec.KeyAspectName, nil
}

func testRegistry() staticRegistry {
	return staticRegistry{
		"dataset": {
			Name:          "dataset",
			KeyAspectName: "datasetKey",
			KeyFields:     []string{"platform", "name", "origin"},
			Aspects: map[string]AspectSpec{
				"datasetKey":        {Name: "datasetKey"},
				"datasetProperties": {Name: "datasetProperties"},
				"globalTags":        {Name: "globalTags", Default: MustRecord(map[string]any{"tags": []any{}})},
				"status":            {Name: "status", ChangeTypes: []ChangeType{ChangeUpsert, ChangeDelete}},
			},
		},
		"corpuser": {
			Name:          "corpuser",
			KeyAspectName: "corpUserKey",
			KeyFields:     []string{"username"},
			Aspects: map[string]AspectSpec{
				"corpUserKey":  {Name: "corpUserKey"},
				"corpUserInfo": {Name: "corpUserInfo"},
			},
		},
	}
}

const testDatasetUrn Urn = "urn:li:dataset:(urn:li:dataPlatform:hive,db.t,PROD)"
