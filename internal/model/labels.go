package model

type Label struct {
	Name        string `json:"label"`
	Description string `json:"description"`
}

// LabelTable maps class index to label. Its order must match the class order
// the model was trained with.
type LabelTable []Label

var WasteLabels = LabelTable{
	{Name: "bio", Description: "Biodegradable waste like food scraps, paper, and plant matter."},
	{Name: "nonbio", Description: "Non-biodegradable waste like plastics, metals, and synthetic materials."},
}

// Map picks the label with the highest score. Ties go to the lowest index.
func (t LabelTable) Map(output []float32) (Label, error) {
	if len(output) != len(t) || len(t) == 0 {
		return Label{}, Errorf(KindMapping, "model output has %d values, label table has %d", len(output), len(t))
	}

	maxIdx := 0
	maxVal := output[0]
	for i, val := range output {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}

	return t[maxIdx], nil
}
