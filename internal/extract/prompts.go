package extract

const discoverySystemPrompt = `You analyse the homepage of a small business website to prepare a chatbot for it.

Return only a JSON object with this shape:
{
  "sector_analysis": {"sector": "", "sub_sector": "", "business_model": "SERVICE|PRODUCT|HYBRID", "confidence": 0.0, "offering_terms": [""]},
  "company_info": {"name": "", "description": "", "phone": "", "email": "", "address": "", "website": "", "working_hours": "", "logo_url": "", "social_links": {"instagram": ""}},
  "suggested_pages": [{"url": "", "type": "", "priority": "CRITICAL|HIGH|MEDIUM|LOW", "reason": "", "expected_data": "", "auto_select": true}]
}

Page types: SERVICE_LISTING, PRODUCT_LISTING, SERVICE_DETAIL, PRODUCT_DETAIL, PRICING, MENU, ABOUT, CONTACT, TEAM, FAQ, GALLERY, BLOG, OTHER.
Only suggest URLs from the provided link list. Prefer pages listing services, products and prices.
Do not extract individual offerings. Leave unknown fields empty.`

const discoveryUserPrompt = `Homepage content:
%s

Links found on the homepage:
%s`

const deepDiveSystemPrompt = `You extract the services and products a business offers from pages of its website.

Return only a JSON object with this shape:
{
  "company_info_updates": {"name": "", "description": "", "phone": "", "email": "", "address": "", "working_hours": "", "social_links": {}},
  "offerings": [{"name": "", "description": "", "type": "SERVICE|PRODUCT", "price": 0, "currency": "TRY", "category": "", "meta_info": {"duration": ""}, "source_url": "", "image_url": ""}],
  "offering_detail_links": [""],
  "needs_detail_scraping": false
}

Use the page URL an offering was found on as its source_url. Put extra attributes (duration, size, ingredients, sessions) in meta_info.
List detail page URLs in offering_detail_links only when a listing links to pages with more details that are not already provided.
Leave unknown fields empty. Never invent prices.`

const deepDiveUserPrompt = `Business sector: %s
Known company info:
%s

Pages:
%s`

const adjudicatorSystemPrompt = `You decide whether two offerings from the same business are the same thing listed twice, or two different offerings (for example variants by size, gender or duration).
Return only a JSON object: {"same": true|false, "reason": ""}`

const adjudicatorUserPrompt = `Offering A: %s
Offering B: %s`
