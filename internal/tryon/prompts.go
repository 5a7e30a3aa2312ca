package tryon

import "github.com/vtryon/backend/internal/models"

var defaultPrompts = map[string]string{
	models.CategoryEyewear: "Place the glasses naturally on the person's face in the uploaded photo. Use that face photo exactly as is, without cropping or altering its size, proportions, or composition. " +
		"If the head is slightly tilted, the frame should tilt accordingly and align with the roll of the head, sitting properly on the nose bridge and temples. " +
		"Ensure the glasses fit properly, match the lighting and perspective, look realistic, and avoid any distortion or skewing of the frame.",
	models.CategoryOutfit: "Generate a photorealistic image of the person wearing this outfit. The outfit should fit naturally on the person's body, matching their pose, body shape, and proportions. " +
		"Ensure the clothing matches the lighting and perspective and looks realistic. Preserve the person's face, hair, and overall appearance while seamlessly integrating the outfit.",
	models.CategoryFootwear: "Generate a photorealistic image of the person wearing these shoes. The shoes should fit naturally on the person's feet, matching their pose and body proportions. " +
		"Ensure the footwear matches the lighting and perspective and looks realistic. Preserve the person's overall appearance while seamlessly integrating the shoes.",
	models.CategoryAccessory: "Generate a photorealistic image of the person wearing this accessory (jewelry, watch, hat, etc.). The accessory should be placed naturally on the appropriate part of the body, matching the person's pose and proportions. " +
		"Ensure the accessory matches the lighting and perspective and looks realistic. Preserve the person's overall appearance while seamlessly integrating the accessory.",
}

// DefaultPrompt returns the generation prompt used when the client sends none.
func DefaultPrompt(category string) string {
	return defaultPrompts[category]
}
